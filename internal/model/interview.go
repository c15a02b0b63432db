// Package model はドメインモデルを定義する。
package model

import "time"

// Interview はユーザーが作成した模擬面接を表す。
type Interview struct {
	ID                   string
	UserID               string
	Title                string
	JobRole              string
	JobDescription       string
	InterviewType        InterviewType
	Status               InterviewStatus
	RecordingKey         string
	RecordingContentType string
	Transcript           string
	TranscriptEmbedding  []float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HasRecording は録画がアップロード済みかを返す。
func (i *Interview) HasRecording() bool {
	return i.RecordingKey != ""
}

// InterviewType は面接の種類を表す。
type InterviewType string

const (
	// InterviewTypeBehavioral は行動面接。
	InterviewTypeBehavioral InterviewType = "behavioral"
	// InterviewTypeTechnical は技術面接。
	InterviewTypeTechnical InterviewType = "technical"
	// InterviewTypeMixed は行動・技術の混合面接。
	InterviewTypeMixed InterviewType = "mixed"
)

// Valid は定義済みの面接種別かを返す。
func (t InterviewType) Valid() bool {
	switch t {
	case InterviewTypeBehavioral, InterviewTypeTechnical, InterviewTypeMixed:
		return true
	}
	return false
}

// InterviewStatus は面接の進行状態を表す。
type InterviewStatus string

const (
	// InterviewStatusScheduled は作成直後の状態。
	InterviewStatusScheduled InterviewStatus = "scheduled"
	// InterviewStatusInProgress は実施中の状態。
	InterviewStatusInProgress InterviewStatus = "in_progress"
	// InterviewStatusCompleted は録画が保存された状態。
	InterviewStatusCompleted InterviewStatus = "completed"
)

// Valid は定義済みの面接状態かを返す。
func (s InterviewStatus) Valid() bool {
	switch s {
	case InterviewStatusScheduled, InterviewStatusInProgress, InterviewStatusCompleted:
		return true
	}
	return false
}
