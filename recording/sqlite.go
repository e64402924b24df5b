package recording

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

const decisionTable = "decisions"

// SQLiteRecorder batches decision entries into a SQLite database. Entries
// are buffered in memory and written in one transaction per batch.
type SQLiteRecorder struct {
	*sql.DB

	statement *sql.Stmt
	batchSize int
	entries   []Entry
}

// NewSQLiteRecorder creates a recorder writing to the database at path. A
// ".sqlite3" suffix is appended; an empty path derives a unique name. The
// remaining buffered entries are flushed at process exit.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	if path == "" {
		path = "tempo_decisions_" + xid.New().String()
	}

	db, err := sql.Open("sqlite3", path+".sqlite3")
	if err != nil {
		return nil, err
	}

	r := &SQLiteRecorder{
		DB:        db,
		batchSize: 100000,
	}

	err = r.createTable()
	if err != nil {
		db.Close()
		return nil, err
	}

	err = r.prepareStatement()
	if err != nil {
		db.Close()
		return nil, err
	}

	atexit.Register(func() { r.Flush() })

	return r, nil
}

func (r *SQLiteRecorder) createTable() error {
	fields := strings.Join(structs.Names(Entry{}), ", \n\t")

	createTableSQL := `CREATE TABLE IF NOT EXISTS ` + decisionTable +
		` (` + "\n\t" + fields + "\n" + `);`
	_, err := r.Exec(createTableSQL)

	return err
}

func (r *SQLiteRecorder) prepareStatement() error {
	names := structs.Names(Entry{})
	placeholders := strings.TrimSuffix(
		strings.Repeat("?, ", len(names)), ", ")

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		decisionTable, strings.Join(names, ", "), placeholders)

	statement, err := r.Prepare(insertSQL)
	if err != nil {
		return err
	}

	r.statement = statement

	return nil
}

// Record buffers one entry, flushing when the batch is full.
func (r *SQLiteRecorder) Record(entry Entry) {
	r.entries = append(r.entries, entry)

	if len(r.entries) >= r.batchSize {
		r.Flush()
	}
}

// Flush writes all buffered entries in one transaction.
func (r *SQLiteRecorder) Flush() {
	if len(r.entries) == 0 {
		return
	}

	tx, err := r.Begin()
	if err != nil {
		panic(err)
	}

	for _, entry := range r.entries {
		_, err = tx.Stmt(r.statement).Exec(
			entry.Tag,
			entry.Rate,
			entry.Power,
			entry.StateIndex,
		)
		if err != nil {
			panic(err)
		}
	}

	err = tx.Commit()
	if err != nil {
		panic(err)
	}

	r.entries = r.entries[:0]
}

// Close flushes and closes the database connection.
func (r *SQLiteRecorder) Close() {
	r.Flush()
	r.DB.Close()
}
