package storage

import "time"

type ConnectionRecord struct {
	ID          string
	UserID      string
	SpaceID     *string
	Name        string
	Type        string
	Host        string
	Port        int
	Database    string
	User        string
	PasswordEnc string
	SSLMode     string
	CreatedAt   time.Time
}

type QueryRecord struct {
	ID              string
	UserID          string
	ConnectionID    string
	Name            string
	Description     string
	Category        string
	SQLText         string
	Thresholds      []byte
	ExpectedResult  string
	Enabled         bool
	Frequency       string
	LastExecutionAt *time.Time
	NextExecutionAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ExecutionRecord struct {
	ID           string
	QueryID      string
	Status       string
	Result       []byte
	Metrics      []byte
	DurationMS   int64
	ErrorMessage *string
	CreatedAt    time.Time
}

type AlertRuleRecord struct {
	ID                string
	QueryID           string
	Name              string
	Status            string
	Condition         []byte
	Channels          []string
	ExecutionResultID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type NotificationRecord struct {
	ID        string
	AlertID   string
	Channel   string
	Status    string
	Content   []byte
	CreatedAt time.Time
}
