package pagination

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type row struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time
	Name      string
}

func rowCursor(r *row) Cursor { return Cursor{CreatedAt: r.CreatedAt, ID: r.ID} }

func TestCursorRoundTripIsURLSafe(t *testing.T) {
	in := Cursor{CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC), ID: uuid.New()}
	token := EncodeCursor(in)
	require.NotContains(t, token, "+")
	require.NotContains(t, token, "/")
	require.NotContains(t, token, "=")

	out, err := ParseCursor(token)
	require.NoError(t, err)
	require.True(t, out.CreatedAt.Equal(in.CreatedAt))
	require.Equal(t, in.ID, out.ID)
}

func TestParseCursorRejectsGarbage(t *testing.T) {
	cur, err := ParseCursor("  ")
	require.NoError(t, err)
	require.Nil(t, cur)

	_, err = ParseCursor("not base64!")
	require.Error(t, err)
}

func TestNormalizeLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, NormalizeLimit(0))
	require.Equal(t, MaxLimit, NormalizeLimit(MaxLimit+1))
	require.Equal(t, 7, NormalizeLimit(7))
}

func TestNewestWalksAllPages(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&row{}))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&row{ID: uuid.New(), CreatedAt: base.Add(time.Duration(i) * time.Minute), Name: fmt.Sprint(i)}).Error)
	}

	var seen []string
	params := Params{Limit: 2}
	for pages := 0; pages < 5; pages++ {
		rows, next, err := Newest(db.Model(&row{}), params, rowCursor)
		require.NoError(t, err)
		for _, r := range rows {
			seen = append(seen, r.Name)
		}
		if next == "" {
			break
		}
		params.Cursor = next
	}
	require.Equal(t, []string{"4", "3", "2", "1", "0"}, seen)
}
