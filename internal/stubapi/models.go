package stubapi

import "time"

type user struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	Role         string
	PasswordHash []byte
}

type userJSON struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Role      string `json:"role"`
}

func (u *user) public() userJSON {
	return userJSON{ID: u.ID, Email: u.Email, FirstName: u.FirstName, LastName: u.LastName, Role: u.Role}
}

type lead struct {
	ID         string         `json:"id"`
	FirstName  string         `json:"firstName"`
	LastName   string         `json:"lastName"`
	Email      string         `json:"email"`
	Phone      string         `json:"phone,omitempty"`
	Source     string         `json:"source"`
	Status     string         `json:"status"`
	Score      int            `json:"score,omitempty"`
	Enrichment map[string]any `json:"enrichment,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

type party struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type opportunity struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Customer        party     `json:"customer"`
	Stage           string    `json:"stage"`
	ExpectedRevenue float64   `json:"expectedRevenue"`
	Probability     float64   `json:"probability"`
	Owner           party     `json:"owner"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type campaign struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Channel   string           `json:"channel"`
	Status    string           `json:"status"`
	Budget    float64          `json:"budget"`
	Rules     []map[string]any `json:"rules,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Flag is the wire form of a feature flag.
type Flag struct {
	Key               string         `json:"key"`
	Status            string         `json:"status"`
	RolloutPercentage int            `json:"rolloutPercentage,omitempty"`
	EnabledForRoles   []string       `json:"enabledForRoles,omitzero"`
	Conditions        map[string]any `json:"conditions,omitempty"`
}

type page[T any] struct {
	Data     []T `json:"data"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

func paginate[T any](items []T, pageNum, size int) page[T] {
	if pageNum < 1 {
		pageNum = 1
	}
	if size < 1 {
		size = 10
	}
	start := (pageNum - 1) * size
	end := start + size
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}
	return page[T]{Data: append([]T{}, items[start:end]...), Total: len(items), Page: pageNum, PageSize: size}
}
