package main

import (
	"database/sql"
	"fmt"

	"git.fiblab.net/sim/synthesis/hotdeck"
	"git.fiblab.net/sim/synthesis/location"
	_ "modernc.org/sqlite"
)

var SCHEMA = []string{
	`CREATE TABLE IF NOT EXISTS matching (
		person_id INTEGER PRIMARY KEY,
		source_id INTEGER NOT NULL,
		predicate INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS unmatched (
		person_id INTEGER PRIMARY KEY
	)`,
	`CREATE TABLE IF NOT EXISTS locations (
		person_id INTEGER NOT NULL,
		trip_index INTEGER NOT NULL,
		destination_id INTEGER NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		PRIMARY KEY (person_id, trip_index)
	)`,
	`CREATE TABLE IF NOT EXISTS convergence (
		person_id INTEGER NOT NULL,
		valid INTEGER NOT NULL,
		size INTEGER NOT NULL,
		iterations INTEGER NOT NULL
	)`,
}

// Sink 结果输出到SQLite文件
type Sink struct {
	db *sql.DB
}

func OpenSink(path string) (*Sink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	for _, stmt := range SCHEMA {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	log.Infof("writing results to %s", path)
	return &Sink{db: db}, nil
}

func (s *Sink) DB() *sql.DB {
	return s.db
}

func (s *Sink) Close() error {
	return s.db.Close()
}

// 在一个事务中清空表并逐行插入
func (s *Sink) replace(table, insert string, n int, args func(i int) []any) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if _, err := tx.Exec("DELETE FROM " + table); err != nil {
		tx.Rollback()
		return err
	}
	stmt, err := tx.Prepare(insert)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.Exec(args(i)...); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	log.Debugf("wrote %d rows to %s", n, table)
	return nil
}

// WriteMatching 写入已匹配行与未匹配编号
func (s *Sink) WriteMatching(result *hotdeck.Result) error {
	matched := make([]int, 0, result.Matched())
	for i, id := range result.DonorIDs {
		if id != hotdeck.DEFAULT_ID {
			matched = append(matched, i)
		}
	}
	err := s.replace("matching", "INSERT INTO matching (person_id, source_id, predicate) VALUES (?, ?, ?)", len(matched), func(i int) []any {
		row := matched[i]
		return []any{result.TargetIDs[row], result.DonorIDs[row], result.Predicates[row]}
	})
	if err != nil {
		return err
	}
	return s.replace("unmatched", "INSERT INTO unmatched (person_id) VALUES (?)", len(result.Unmatched), func(i int) []any {
		return []any{result.Unmatched[i]}
	})
}

// WriteLocations 写入次要活动地点与收敛记录
func (s *Sink) WriteLocations(out *location.Output) error {
	err := s.replace("locations", "INSERT INTO locations (person_id, trip_index, destination_id, x, y) VALUES (?, ?, ?, ?, ?)", len(out.Locations), func(i int) []any {
		l := &out.Locations[i]
		return []any{l.PersonID, l.TripIndex, l.DestinationID, l.Location.X, l.Location.Y}
	})
	if err != nil {
		return err
	}
	return s.replace("convergence", "INSERT INTO convergence (person_id, valid, size, iterations) VALUES (?, ?, ?, ?)", len(out.Convergence), func(i int) []any {
		c := &out.Convergence[i]
		return []any{c.PersonID, c.Valid, c.Size, c.Iterations}
	})
}
