package database

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSNPinsCharsetAndParseTime(t *testing.T) {
	dsn := DSN(Params{
		Host:     "10.0.0.7",
		Name:     "tenant42",
		User:     "u42",
		Password: "p@ss",
		Timeout:  3 * time.Second,
	})

	cfg, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7:3306", cfg.Addr)
	assert.Equal(t, "tenant42", cfg.DBName)
	assert.Equal(t, "u42", cfg.User)
	assert.Equal(t, "p@ss", cfg.Passwd)
	assert.True(t, cfg.ParseTime)
	assert.False(t, cfg.MultiStatements)
	assert.Equal(t, "utf8mb4_unicode_ci", cfg.Collation)
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}

func TestDSNCustomPort(t *testing.T) {
	cfg, err := mysql.ParseDSN(DSN(Params{Host: "db", Port: 3307, Name: "x", User: "y"}))
	require.NoError(t, err)
	assert.Equal(t, "db:3307", cfg.Addr)
}

func TestIsUnknownTable(t *testing.T) {
	missing := &mysql.MySQLError{Number: 1146, Message: "Table 'x.spottymkt_messaggi' doesn't exist"}
	assert.True(t, IsUnknownTable(fmt.Errorf("query: %w", missing)))
	assert.False(t, IsUnknownTable(&mysql.MySQLError{Number: 1045}))
	assert.False(t, IsUnknownTable(errors.New("1146")))
	assert.False(t, IsUnknownTable(nil))
}
