package migrations

import "database/sql"

// All returns every hearth migration.
func All() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_initial_tables",
			Up:      createInitialTables,
			Down: func(tx *sql.Tx) error {
				return execAll(tx,
					`DROP TABLE IF EXISTS volumes`,
					`DROP TABLE IF EXISTS vms`,
					`DROP TABLE IF EXISTS key_pairs`,
					`DROP TABLE IF EXISTS images`,
					`DROP TABLE IF EXISTS network_profiles`,
				)
			},
		},
		{
			Version: 2,
			Name:    "add_lookup_indexes",
			Up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE INDEX idx_vms_account_id ON vms(account_id)`,
					`CREATE INDEX idx_volumes_vm_id ON volumes(vm_id)`,
					`CREATE INDEX idx_images_account_id ON images(account_id)`,
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx,
					`DROP INDEX IF EXISTS idx_images_account_id`,
					`DROP INDEX IF EXISTS idx_volumes_vm_id`,
					`DROP INDEX IF EXISTS idx_vms_account_id`,
				)
			},
		},
	}
}

func createInitialTables(tx *sql.Tx) error {
	return execAll(tx,
		`CREATE TABLE network_profiles (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			config TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (account_id, name)
		)`,
		`CREATE TABLE images (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			visibility TEXT NOT NULL,
			format TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL,
			state TEXT NOT NULL,
			deactivated INTEGER NOT NULL DEFAULT 0,
			source_vm_id TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE key_pairs (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			name TEXT NOT NULL,
			public_key TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (account_id, name)
		)`,
		`CREATE TABLE vms (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			host TEXT NOT NULL DEFAULT '',
			instance_family TEXT NOT NULL,
			instance_size TEXT NOT NULL,
			cpu INTEGER NOT NULL,
			memory_mb INTEGER NOT NULL,
			image_id TEXT NOT NULL,
			image_name TEXT NOT NULL DEFAULT '',
			network_profile_id TEXT NOT NULL DEFAULT '',
			network_profile_name TEXT NOT NULL DEFAULT '',
			network_type TEXT NOT NULL DEFAULT '',
			address TEXT,
			mac_address TEXT NOT NULL DEFAULT '',
			bridge TEXT NOT NULL DEFAULT '',
			virtual_network TEXT NOT NULL DEFAULT '',
			key_name TEXT NOT NULL DEFAULT '',
			hostname TEXT NOT NULL DEFAULT '',
			console TEXT,
			state TEXT NOT NULL,
			workspace_path TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		// A static address belongs to at most one VM per profile.
		`CREATE UNIQUE INDEX idx_vms_profile_address ON vms(network_profile_id, address) WHERE address IS NOT NULL`,
		`CREATE TABLE volumes (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			vm_id TEXT REFERENCES vms(id) ON DELETE CASCADE,
			image_id TEXT NOT NULL DEFAULT '',
			format TEXT NOT NULL,
			path TEXT NOT NULL,
			size TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
	)
}

func execAll(tx *sql.Tx, statements ...string) error {
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
