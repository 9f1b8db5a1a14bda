package client

import (
	"encoding/json"
	"fmt"

	"github.com/automoto/cubes-mp/shared/netconfig"
	"github.com/quasilyte/gdata"
)

const profileKey = "profile"

// ProfileStore is the key/value storage a Profile is persisted in.
// *gdata.Manager implements it.
type ProfileStore interface {
	LoadItem(key string) ([]byte, error)
	SaveItem(key string, data []byte) error
}

// Profile is the locally persisted client identity.
type Profile struct {
	ClientID netconfig.ClientID `json:"clientId"`
}

// OpenProfileStore opens the per-user data directory of app.
func OpenProfileStore(app string) (ProfileStore, error) {
	m, err := gdata.Open(gdata.Config{AppName: app})
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	return m, nil
}

// LoadProfile reads the stored profile. When there is none, a profile with
// newID() is created and saved.
func LoadProfile(store ProfileStore, newID func() netconfig.ClientID) (Profile, error) {
	data, err := store.LoadItem(profileKey)
	if err != nil {
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if len(data) > 0 {
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return Profile{}, fmt.Errorf("parse profile: %w", err)
		}
		if p.ClientID != netconfig.ServerID {
			return p, nil
		}
	}

	p := Profile{ClientID: newID()}
	if p.ClientID == netconfig.ServerID {
		return Profile{}, fmt.Errorf("profile: client id %d is reserved", netconfig.ServerID)
	}
	return p, SaveProfile(store, p)
}

func SaveProfile(store ProfileStore, p Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("serialize profile: %w", err)
	}
	if err := store.SaveItem(profileKey, data); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
