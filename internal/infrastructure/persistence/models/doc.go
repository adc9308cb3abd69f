// Package models holds the GORM rows behind the fulfillment tables. Domain
// types carry no ORM tags; each model converts to and from its domain type
// with ToDomain and FromDomain, and only the repositories see models.
package models
