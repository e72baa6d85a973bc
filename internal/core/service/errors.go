package service

import "errors"

var (
	ErrEmptyHistory  = errors.New("empty price history")
	ErrCatalogLoad   = errors.New("catalog load failed")
	ErrFetch         = errors.New("fetch failed")
	ErrPersist       = errors.New("persist failed")
	ErrDispatch      = errors.New("dispatch failed")
	ErrAbandoned     = errors.New("abandoned: run budget exhausted")
	ErrRunInProgress = errors.New("reconciliation run already in progress")
	ErrNoRunRecorded = errors.New("no run recorded")
)
