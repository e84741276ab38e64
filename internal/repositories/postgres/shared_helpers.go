package postgres

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// getDB returns the transaction when one is supplied.
func getDB(base, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return base
}

// lockForUpdate adds SELECT ... FOR UPDATE. Dialects without row locks
// (sqlite) ignore the clause.
func lockForUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// applyPaginationAndSort applies pagination and sorting with SQL injection
// protection.
func applyPaginationAndSort(query *gorm.DB, allowed map[string]bool, sortBy, sortOrder string, limit, offset int) *gorm.DB {
	if sortBy == "" || !allowed[sortBy] {
		sortBy = "created_at"
	}

	if sortOrder != "asc" && sortOrder != "ASC" {
		sortOrder = "DESC"
	} else {
		sortOrder = "ASC"
	}

	query = query.Order(sortBy + " " + sortOrder).Order("id " + sortOrder)

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	return query
}

var (
	examSortColumns = map[string]bool{
		"created_at": true,
		"updated_at": true,
		"id":         true,
		"title":      true,
		"status":     true,
	}

	runSortColumns = map[string]bool{
		"created_at": true,
		"start_at":   true,
		"end_at":     true,
		"id":         true,
		"status":     true,
	}

	attemptSortColumns = map[string]bool{
		"created_at":  true,
		"started_at":  true,
		"finished_at": true,
		"id":          true,
		"status":      true,
		"auto_score":  true,
		"final_score": true,
		"student_id":  true,
	}
)
