package database

import (
	"context"
	"path/filepath"
	"testing"

	"guest-concierge/internal/config"
	"guest-concierge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteMigrates(t *testing.T) {
	cfg := &config.Config{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "test.db")}

	db, err := Open(cfg)
	require.NoError(t, err)

	for _, m := range models.All() {
		assert.True(t, db.Migrator().HasTable(m), "table for %T", m)
	}

	sm := models.ScheduledMessage{BookingID: "b1", RuleID: "r1", TemplateID: "t1", Phone: "1", Status: models.ScheduledPending}
	require.NoError(t, db.Create(&sm).Error)
	dup := models.ScheduledMessage{BookingID: "b1", RuleID: "r1", TemplateID: "t1", Phone: "1", Status: models.ScheduledPending}
	assert.Error(t, db.Create(&dup).Error, "booking/rule pair must be unique")
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(&config.Config{DBDriver: "mysql"})
	assert.ErrorContains(t, err, "unsupported DB_DRIVER")
}

func TestPostgresDSN(t *testing.T) {
	cfg := &config.Config{DBHost: "db", DBUser: "u", DBPassword: "p", DBName: "n", DBPort: "5433", DBSSLMode: "disable"}
	assert.Equal(t, "host=db user=u password=p dbname=n port=5433 sslmode=disable", PostgresDSN(cfg))
}

func TestCopyAllIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	src, err := Open(&config.Config{DBDriver: "sqlite", DBPath: filepath.Join(dir, "src.db")})
	require.NoError(t, err)
	dst, err := OpenSQLite(filepath.Join(dir, "dst.db"), nil)
	require.NoError(t, err)

	require.NoError(t, src.Create(&models.Property{ID: "p1", Name: "Sea View"}).Error)
	require.NoError(t, src.Create(&models.FAQ{PropertyID: "p1", Question: "Parking?", Answer: "Street only"}).Error)
	require.NoError(t, src.Create(&models.Conversation{Phone: "15551234567", AutoResponse: true}).Error)

	res, err := CopyAll(context.Background(), src, dst, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res["properties"])
	assert.Equal(t, 1, res["faqs"])
	assert.Equal(t, 0, res["tasks"])

	_, err = CopyAll(context.Background(), src, dst, 10, nil)
	require.NoError(t, err)

	var faqs []models.FAQ
	require.NoError(t, dst.Find(&faqs).Error)
	require.Len(t, faqs, 1)
	assert.Equal(t, "Street only", faqs[0].Answer)

	var conv models.Conversation
	require.NoError(t, dst.First(&conv).Error)
	assert.True(t, conv.AutoResponse)
}
