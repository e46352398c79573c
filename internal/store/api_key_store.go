package store

import (
	"time"
)

type APIKey struct {
	ID        int64     `json:"id" param:"id"`
	Value     string    `json:"value"`
	CreatedOn time.Time `json:"created_on"`
}
