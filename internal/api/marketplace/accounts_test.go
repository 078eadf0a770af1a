package marketplace

import (
	"net/http"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gigmarket/marketplace/internal/auth"
	"github.com/gigmarket/marketplace/internal/db/models"
)

func TestRegister_CreatesUserWithAuditEntry(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery("FROM users WHERE email").
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(userCols))
	f.mock.ExpectBegin()
	f.mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()

	w := f.do(alice(), http.MethodPost, "/api/v1/auth/register", gin.H{
		"email": "  Ada@Example.com ", "name": "Ada", "password": "correct horse",
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user := decode(t, w)["user"].(map[string]interface{})
	assert.Equal(t, "ada@example.com", user["email"])
	assert.NotContains(t, w.Body.String(), "password")

	require.Len(t, f.trail.entries, 1)
	e := f.trail.entries[0]
	assert.Equal(t, "users", e.TableName)
	assert.Equal(t, models.AuditActionCreate, e.Action)
	assert.Equal(t, user["id"], e.UserID)
	assert.Equal(t, e.RecordID, e.UserID)
	assert.NotContains(t, e.NewValues, "password_hash")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestRegister_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       gin.H
		existing   bool
		wantStatus int
	}{
		{"duplicate email", gin.H{"email": "alice@example.com", "name": "A", "password": "longenough"}, true, http.StatusConflict},
		{"short password", gin.H{"email": "x@example.com", "name": "A", "password": "short"}, false, http.StatusBadRequest},
		{"bad email", gin.H{"email": "not-an-email", "name": "A", "password": "longenough"}, false, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.existing {
				f.mock.ExpectQuery("FROM users WHERE email").WillReturnRows(userRow(aliceID, "alice@example.com", "h"))
			}
			w := f.do(alice(), http.MethodPost, "/api/v1/auth/register", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Empty(t, f.trail.entries)
		})
	}
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name       string
		rows       *sqlmock.Rows
		password   string
		wantStatus int
	}{
		{"valid", userRow(aliceID, "alice@example.com", string(hash)), "correct horse", http.StatusOK},
		{"wrong password", userRow(aliceID, "alice@example.com", string(hash)), "battery staple", http.StatusUnauthorized},
		{"unknown email", sqlmock.NewRows(userCols), "correct horse", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.mock.ExpectQuery("FROM users WHERE email").WithArgs("alice@example.com").WillReturnRows(tt.rows)

			w := f.do(alice(), http.MethodPost, "/api/v1/auth/login", gin.H{
				"email": "ALICE@example.com", "password": tt.password,
			})

			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, "Invalid credentials", decode(t, w)["error"])
				return
			}
			body := decode(t, w)
			assert.EqualValues(t, 3600, body["expires_in"])
			claims, err := auth.ValidateJWT(body["token"].(string))
			require.NoError(t, err)
			assert.Equal(t, aliceID, claims.UserID)
		})
	}
}

func TestMe(t *testing.T) {
	f := newFixture(t)
	w := f.do(alice(), http.MethodGet, "/api/v1/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, aliceID, decode(t, w)["user"].(map[string]interface{})["id"])
}
