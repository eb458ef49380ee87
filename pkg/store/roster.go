package store

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kabili207/flume-pay/pkg/models"
)

// ErrUserNameTaken is returned when signup races another device for the
// same username.
var ErrUserNameTaken = errors.New("username is already registered")

var selectProfiles = `SELECT p.* FROM profiles p`

// RosterStore tracks registered usernames so signups stay unique across
// devices.
type RosterStore interface {
	GetByUserID(userID string) (*models.UserProfile, error)
	GetByUserName(username string) (*models.UserProfile, error)
	GetAll() ([]*models.UserProfile, error)
	Register(profile *models.UserProfile) error
	UpdateBalance(userID string, balance models.Amount) error
	Remove(userID string) error
}

type postgresRosterStore struct {
	db *sqlx.DB
}

func NewRoster(dbconn *sqlx.DB) RosterStore {
	return &postgresRosterStore{db: dbconn}
}

func (s *postgresRosterStore) GetByUserID(userID string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := s.db.Get(&profile, selectProfiles+" WHERE p.user_id = $1;", userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &profile, err
}

func (s *postgresRosterStore) GetByUserName(username string) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := s.db.Get(&profile, selectProfiles+" WHERE p.username = $1;", username)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &profile, err
}

func (s *postgresRosterStore) GetAll() ([]*models.UserProfile, error) {
	profiles := []*models.UserProfile{}
	err := s.db.Select(&profiles, selectProfiles+" ORDER BY p.username;")
	return profiles, err
}

func (s *postgresRosterStore) Register(profile *models.UserProfile) error {
	insert := `
		INSERT INTO profiles (user_id, username, first_name, last_name, balance, account_id, created_at)
		VALUES (:user_id, :username, :first_name, :last_name, :balance, :account_id, :created_at);`
	_, err := s.db.NamedExec(insert, profile)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrUserNameTaken
	}
	return err
}

func (s *postgresRosterStore) UpdateBalance(userID string, balance models.Amount) error {
	_, err := s.db.Exec(`UPDATE profiles SET balance = $1 WHERE user_id = $2;`, balance, userID)
	return err
}

func (s *postgresRosterStore) Remove(userID string) error {
	_, err := s.db.Exec(`DELETE FROM profiles WHERE user_id = $1;`, userID)
	return err
}
