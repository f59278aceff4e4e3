// Package config defines configuration structures for the atbfetch CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (ATBFETCH_ prefix)
//   - YAML configuration file
//
// Precedence is flags over environment over file over defaults. The fetch
// command starts from Default(), layers the file (when -config is given)
// and the environment on top, then applies only the flags the user set.
//
// # Structure
//
//	type Config struct {
//	    Index           string
//	    IndexURL        string
//	    Species         string
//	    Output          string
//	    ArchiveDir      string
//	    Jobs            int
//	    StripComponents int
//	    DeleteArchives  bool
//	    Retry           RetryConfig
//	}
//
//	type RetryConfig struct {
//	    Attempts   int
//	    Backoff    time.Duration
//	    MaxBackoff time.Duration
//	}
package config
