package utils

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostgresDSN_BuildsURL(t *testing.T) {
	dsn, err := PostgresDSN(PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		Database: "pdfapi",
		User:     "user",
		Password: "p@ss word",
		SSLMode:  "disable",
	})
	assert.NoError(t, err)

	u, err := url.Parse(dsn)
	assert.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "localhost:5432", u.Host)
	assert.Equal(t, "/pdfapi", u.Path)
	assert.Equal(t, "user", u.User.Username())
	pw, ok := u.User.Password()
	assert.True(t, ok)
	assert.Equal(t, "p@ss word", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
}

func TestPostgresDSN_Passthrough(t *testing.T) {
	raw := "postgres://u:p@localhost:5432/db?sslmode=disable"
	dsn, err := PostgresDSN(PostgresConfig{Host: raw})
	assert.NoError(t, err)
	assert.Equal(t, raw, dsn)
}

func TestPostgresDSN_DefaultPortAndIPv6(t *testing.T) {
	dsn, err := PostgresDSN(PostgresConfig{Host: "::1", Database: "db", User: "u"})
	assert.NoError(t, err)
	u, err := url.Parse(dsn)
	assert.NoError(t, err)
	assert.Equal(t, "[::1]:5432", u.Host)
}

func TestPostgresDSN_MissingFields(t *testing.T) {
	cases := []PostgresConfig{
		{},
		{Host: "localhost"},
		{Host: "localhost", Database: "db"},
	}
	for _, c := range cases {
		_, err := PostgresDSN(c)
		assert.Error(t, err)
	}
}

func TestOpenPostgres_Unreachable(t *testing.T) {
	_, err := OpenPostgres(context.Background(), PostgresConfig{
		Host: "127.0.0.1", Port: 1, Database: "db", User: "u", SSLMode: "disable",
	})
	assert.Error(t, err)
}
