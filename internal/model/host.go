package model

import "time"

// Records below are read from the host application's database. They are
// never written by this service. Optional columns are pointers so a NULL
// stays distinguishable from a zero value.

type Session struct {
	ID          int64      `json:"id"`
	CaseID      int64      `json:"caseId"`
	Intention   *string    `json:"intention,omitempty"`
	Description *string    `json:"description,omitempty"`
	Created     *time.Time `json:"created,omitempty"`
}

type Case struct {
	ID          int64      `json:"id"`
	Name        *string    `json:"name,omitempty"`
	Email       *string    `json:"email,omitempty"`
	Color       *string    `json:"color,omitempty"`
	Description *string    `json:"description,omitempty"`
	Created     *time.Time `json:"created,omitempty"`
	LastChange  *time.Time `json:"lastChange,omitempty"`
}

type Analysis struct {
	ID        int64      `json:"id"`
	SessionID int64      `json:"sessionId"`
	CatalogID int64      `json:"catalogId"`
	Name      *string    `json:"name,omitempty"`
	TargetGV  *int64     `json:"targetGv,omitempty"`
	Note      *string    `json:"note,omitempty"`
	Created   *time.Time `json:"created,omitempty"`
}

type Catalog struct {
	ID          int64      `json:"id"`
	Name        *string    `json:"name,omitempty"`
	Description *string    `json:"description,omitempty"`
	Author      *string    `json:"author,omitempty"`
	ImportDate  *time.Time `json:"importDate,omitempty"`
}

type Rate struct {
	ID          int64   `json:"id"`
	CatalogID   int64   `json:"catalogId"`
	Signature   *string `json:"signature,omitempty"`
	Description *string `json:"description,omitempty"`
}

type RateAnalysis struct {
	ID             int64   `json:"id"`
	AnalysisID     int64   `json:"analysisId"`
	CatalogID      *int64  `json:"catalogId,omitempty"`
	Signature      *string `json:"signature,omitempty"`
	Description    *string `json:"description,omitempty"`
	EnergeticValue *int64  `json:"energeticValue,omitempty"`
	GV             *int64  `json:"gv,omitempty"`
	Level          *int64  `json:"level,omitempty"`
	PotencyType    *string `json:"potencyType,omitempty"`
	Potency        *int64  `json:"potency,omitempty"`
	Note           *string `json:"note,omitempty"`
}
