package repository

import "database/sql"

// Store groups the per-entity repositories over one database.
type Store struct {
	DB       *sql.DB
	VMs      *VMRepository
	Volumes  *VolumeRepository
	Profiles *NetworkProfileRepository
	Images   *ImageRepository
	Keys     *KeyPairRepository
}

// New returns a Store over db. The schema must already be migrated.
func New(db *sql.DB) *Store {
	return &Store{
		DB:       db,
		VMs:      NewVMRepository(db),
		Volumes:  NewVolumeRepository(db),
		Profiles: NewNetworkProfileRepository(db),
		Images:   NewImageRepository(db),
		Keys:     NewKeyPairRepository(db),
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.DB.Close()
}
