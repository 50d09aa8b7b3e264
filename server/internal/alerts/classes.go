package alerts

// Built-in alert classes.
var (
	AFPShareLocked = MustRegister(&Class{
		Name:     "AFPShareLocked",
		Category: CategorySharing,
		Level:    LevelWarning,
		Title:    "AFP Share Locked",
		Text:     `AFP "{{.name}}" share operating on a locked resource. Please disable the share.`,
		OneShot:  true,
		KeyArg:   "id",
	})

	SMBShareLocked = MustRegister(&Class{
		Name:     "SMBShareLocked",
		Category: CategorySharing,
		Level:    LevelWarning,
		Title:    "SMB Share Locked",
		Text:     `SMB "{{.name}}" share operating on a locked resource. Please disable the share.`,
		OneShot:  true,
		KeyArg:   "id",
	})

	VolumeStatus = MustRegister(&Class{
		Name:                 "VolumeStatus",
		Category:             CategoryStorage,
		Level:                LevelCritical,
		Title:                "Pool Status Is Not Healthy",
		Text:                 `Pool {{.volume}} state is {{.state}}: {{.status}}`,
		DeletedAutomatically: true,
	})

	CertificateExpiring = MustRegister(&Class{
		Name:                 "CertificateExpiring",
		Category:             CategoryCertificates,
		Level:                LevelWarning,
		Title:                "Certificate Is Expiring",
		Text:                 `Certificate for {{.endpoint}} issued by {{.issuer}} expires in {{.days}} days ({{.not_after}}).`,
		DeletedAutomatically: true,
	})

	CertificateExpired = MustRegister(&Class{
		Name:                 "CertificateExpired",
		Category:             CategoryCertificates,
		Level:                LevelCritical,
		Title:                "Certificate Has Expired",
		Text:                 `Certificate for {{.endpoint}} issued by {{.issuer}} expired on {{.not_after}}.`,
		DeletedAutomatically: true,
	})

	DirectoryServiceUnavailable = MustRegister(&Class{
		Name:                 "DirectoryServiceUnavailable",
		Category:             CategoryDirectoryService,
		Level:                LevelWarning,
		Title:                "Directory Service Is Unavailable",
		Text:                 `Directory service {{.provider}} is unreachable; lookups fall back to the next provider: {{.error}}`,
		DeletedAutomatically: true,
	})
)
