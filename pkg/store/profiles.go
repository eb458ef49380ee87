package store

import (
	"encoding/json"
	"fmt"

	"github.com/kabili207/flume-pay/pkg/models"
)

const profileKey = "userProfile"

// ProfileStore persists the single local user profile.
type ProfileStore interface {
	// Current returns the stored profile, or nil when none exists.
	Current() (*models.UserProfile, error)
	Save(profile *models.UserProfile) error
	Delete() error
}

type kvProfileStore struct {
	kv *FileKV
}

func NewProfiles(kv *FileKV) ProfileStore {
	return &kvProfileStore{kv: kv}
}

func (s *kvProfileStore) Current() (*models.UserProfile, error) {
	data, err := s.kv.Get(profileKey)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var profile models.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("stored profile is corrupt: %w", err)
	}
	return &profile, nil
}

func (s *kvProfileStore) Save(profile *models.UserProfile) error {
	data, err := json.Marshal(profile)
	if err != nil {
		return err
	}
	return s.kv.Set(profileKey, data)
}

func (s *kvProfileStore) Delete() error {
	return s.kv.Delete(profileKey)
}
