package types

import "time"

// Alert is one live alert as served by GET /api/v2.0/alert/list/.
type Alert struct {
	ID             string         `json:"id"`
	UUID           string         `json:"uuid"`
	Source         string         `json:"source"`
	Klass          string         `json:"klass"`
	Args           map[string]any `json:"args"`
	Key            string         `json:"key"`
	Level          string         `json:"level"`
	Datetime       time.Time      `json:"datetime"`
	LastOccurrence time.Time      `json:"last_occurrence"`
	Dismissed      bool           `json:"dismissed"`
	Title          string         `json:"title"`
	Formatted      string         `json:"formatted"`
	OneShot        bool           `json:"one_shot"`
	Category       string         `json:"category"`
}

// Category groups the registered classes for GET /alert/list_categories/.
type Category struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Classes []ClassRef `json:"classes"`
}

// ClassRef is a class entry inside a Category.
type ClassRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Level string `json:"level"`
}

// Class is a registered alert class with its effective level and policy.
type Class struct {
	ID                   string `json:"id"`
	Category             string `json:"category"`
	Title                string `json:"title"`
	Level                string `json:"level"`
	Policy               string `json:"policy"`
	OneShot              bool   `json:"one_shot"`
	DeletedAutomatically bool   `json:"deleted_automatically"`
}

// OneShotCreateRequest is the body of POST /alert/oneshot_create/.
type OneShotCreateRequest struct {
	Klass string         `json:"klass"`
	Args  map[string]any `json:"args"`
}

// OneShotDeleteRequest is the body of POST /alert/oneshot_delete/. Query is
// compared against alert keys with its string form.
type OneShotDeleteRequest struct {
	Klass string `json:"klass"`
	Query any    `json:"query"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AlertsMessage is the envelope pushed to /ws/alerts clients.
type AlertsMessage struct {
	Event string  `json:"event"`
	Data  []Alert `json:"data"`
}
