package main

import (
	"flag"
	"log"
	"time"
)

const (
	defaultBooks       = 20
	defaultCopies      = 3
	defaultMembers     = 50
	defaultWorkers     = 16
	defaultOperations  = 200
	defaultReturnShare = 40
	defaultLoanDays    = 14
)

// Config holds the workload parameters.
type Config struct {
	Books       int
	Copies      int
	Members     int
	Workers     int
	Operations  int
	ReturnShare int
	Seed        uint64
	Timeout     time.Duration
}

// parseFlags parses command line flags and returns configuration.
func parseFlags() Config {
	var (
		books       = flag.Int("books", defaultBooks, "Number of titles in the catalog")
		copies      = flag.Int("copies", defaultCopies, "Copies per title")
		members     = flag.Int("members", defaultMembers, "Number of members")
		workers     = flag.Int("workers", defaultWorkers, "Number of concurrent workers")
		operations  = flag.Int("ops", defaultOperations, "Operations per worker")
		returnShare = flag.Int("return-share", defaultReturnShare, "Percentage of operations that return a copy when the worker holds one")
		seed        = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Random seed")
		timeout     = flag.Duration("timeout", 5*time.Minute, "Overall time limit")
	)

	flag.Parse()

	cfg := Config{
		Books:       *books,
		Copies:      *copies,
		Members:     *members,
		Workers:     *workers,
		Operations:  *operations,
		ReturnShare: *returnShare,
		Seed:        *seed,
		Timeout:     *timeout,
	}

	if cfg.Books < 1 || cfg.Members < 1 || cfg.Workers < 1 || cfg.Copies < 0 || cfg.Operations < 0 {
		log.Fatalf("books, members and workers must be positive, copies and ops must not be negative")
	}

	if cfg.ReturnShare < 0 || cfg.ReturnShare > 100 {
		log.Fatalf("return-share (%d) must be between 0 and 100", cfg.ReturnShare)
	}

	return cfg
}
