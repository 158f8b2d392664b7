package model

import "time"

// Generator is a template for minting license key strings:
// prefix + chunk (separator chunk)* + suffix.
type Generator struct {
	ID               int64      `db:"id"`
	Name             string     `db:"name"`
	Charset          string     `db:"charset"`
	Chunks           int        `db:"chunks"`
	ChunkLength      int        `db:"chunk_length"`
	Separator        string     `db:"chunk_separator"`
	Prefix           string     `db:"prefix"`
	Suffix           string     `db:"suffix"`
	ExpiresIn        *int       `db:"expires_in"` // days
	ActivationsLimit *int       `db:"activations_limit"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        *time.Time `db:"updated_at"`
}
