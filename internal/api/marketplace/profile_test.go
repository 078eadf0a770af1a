package marketplace

import (
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gigmarket/marketplace/internal/db/models"
)

var profileCols = []string{"user_id", "display_name", "headline", "bio", "hourly_rate", "updated_at"}

func TestUpdateProfile_NewProfileAndEmail(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("FROM users WHERE email").WithArgs("new@example.com").WillReturnRows(sqlmock.NewRows(userCols))
	f.mock.ExpectQuery("FROM profiles WHERE user_id").WithArgs(aliceID).WillReturnRows(sqlmock.NewRows(profileCols))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("INSERT INTO profiles").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectExec("UPDATE users SET email").WithArgs(aliceID, "new@example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	w := f.do(alice(), http.MethodPut, "/api/v1/profile", gin.H{
		"display_name": "Alice L.", "email": "New@Example.com",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "new@example.com", body["user"].(map[string]interface{})["email"])
	assert.Equal(t, "Alice L.", body["profile"].(map[string]interface{})["display_name"])

	require.Len(t, f.trail.entries, 2)
	assert.Equal(t, "profiles", f.trail.entries[0].TableName)
	assert.Equal(t, models.AuditActionCreate, f.trail.entries[0].Action)
	assert.Nil(t, f.trail.entries[0].OldValues)

	emailEntry := f.trail.entries[1]
	assert.Equal(t, "users", emailEntry.TableName)
	assert.Equal(t, models.AuditActionUpdate, emailEntry.Action)
	assert.Equal(t, "alice@example.com", emailEntry.OldValues["email"])
	assert.Equal(t, "new@example.com", emailEntry.NewValues["email"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateProfile_ExistingProfileKeepsOmittedFields(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("FROM profiles WHERE user_id").
		WillReturnRows(sqlmock.NewRows(profileCols).AddRow(aliceID, "Alice", "Designer", nil, 40.0, time.Now()))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("INSERT INTO profiles").
		WithArgs(aliceID, "Alice", "Designer", nil, 55.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	w := f.do(alice(), http.MethodPut, "/api/v1/profile", gin.H{"hourly_rate": 55})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, f.trail.entries, 1)
	e := f.trail.entries[0]
	assert.Equal(t, models.AuditActionUpdate, e.Action)
	assert.EqualValues(t, 40, e.OldValues["hourly_rate"])
	assert.EqualValues(t, 55, e.NewValues["hourly_rate"])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUpdateProfile_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       gin.H
		takenEmail bool
		wantStatus int
	}{
		{"empty body", gin.H{}, false, http.StatusBadRequest},
		{"same email in other case", gin.H{"email": "ALICE@example.com"}, false, http.StatusBadRequest},
		{"email taken", gin.H{"email": "bob@example.com"}, true, http.StatusConflict},
		{"negative rate", gin.H{"hourly_rate": -1}, false, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.takenEmail {
				f.mock.ExpectQuery("FROM users WHERE email").WillReturnRows(userRow(bobID, "bob@example.com", "h"))
			}
			w := f.do(alice(), http.MethodPut, "/api/v1/profile", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Empty(t, f.trail.entries)
		})
	}
}
