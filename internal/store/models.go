package store

import (
	"database/sql"
	"time"

	"github.com/nadezhda-zhivchikova/erika-advent/internal/domain"
)

const dateLayout = "2006-01-02"

func dateToText(d time.Time) string {
	return domain.DateOnly(d).Format(dateLayout)
}

func textToDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

func toNullDate(d *time.Time) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: dateToText(*d), Valid: true}
}

func fromNullDate(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := textToDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
