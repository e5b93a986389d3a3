package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/docbridge/docbridge/config"
	"github.com/docbridge/docbridge/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		newCache, errCache := cache.NewCache()
		if errCache != nil {
			log.Printf("cache init error, proceeding without cache: %v", errCache)
		}
		instance = &Datasource{Conn: con, Cache: newCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createSupplierTable(db)
	if err != nil {
		return nil, err
	}
	err = createPassportTable(db)
	if err != nil {
		return nil, err
	}
	err = createConfidenceTable(db)
	if err != nil {
		return nil, err
	}
	err = createQueueItemTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createPassportTable creates a PostgreSQL table for the Passport struct.
// Phase history and business events live as jsonb arrays on the row so
// appends can be done atomically with the || operator.
func createPassportTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS passports (
			id SERIAL PRIMARY KEY,
			passport_id TEXT NOT NULL UNIQUE,
			source_document_id TEXT NOT NULL UNIQUE,
			document_type TEXT,
			current_phase TEXT NOT NULL,
			status TEXT NOT NULL,
			linked_supplier_id TEXT REFERENCES suppliers(supplier_id),
			confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			quality_meta_data JSONB,
			phase_history JSONB NOT NULL DEFAULT '[]'::jsonb,
			business_events JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createConfidenceTable creates a PostgreSQL table for the per-passport
// confidence breakdown, 1:1 with passports.
func createConfidenceTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS passport_confidence (
			id SERIAL PRIMARY KEY,
			passport_id TEXT NOT NULL UNIQUE REFERENCES passports(passport_id),
			factors JSONB NOT NULL DEFAULT '{}'::jsonb,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createQueueItemTable creates a PostgreSQL table for queue items. The
// partial unique index enforces at most one active item per
// (passport, stage) pair.
func createQueueItemTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_items (
			id SERIAL PRIMARY KEY,
			item_id TEXT NOT NULL UNIQUE,
			passport_id TEXT NOT NULL REFERENCES passports(passport_id),
			stage_name TEXT NOT NULL,
			status TEXT NOT NULL,
			priority INT NOT NULL DEFAULT 50,
			retry_count INT NOT NULL DEFAULT 0,
			max_retries INT NOT NULL DEFAULT 3,
			processing_context JSONB,
			error_details TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating queue_items table: %v", err)
		return err
	}
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS queue_items_active_idx
		ON queue_items (passport_id, stage_name)
		WHERE status IN ('queued', 'processing', 'retrying')
	`)
	log.Println(err)
	return err
}

// createSupplierTable creates a PostgreSQL table for the Supplier struct
func createSupplierTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS suppliers (
			id SERIAL PRIMARY KEY,
			supplier_id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			code TEXT NOT NULL,
			email TEXT,
			phone TEXT,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			meta_data JSONB,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}
