package unionfs

import "github.com/mwantia/unionfs/log"

// Option configures a UnionFS during construction.
type Option func(*UnionFS)

// WithLogger installs an existing logger instead of the default.
func WithLogger(logger *log.Logger) Option {
	return func(fs *UnionFS) {
		fs.log = logger
	}
}

// WithLogLevel creates the default logger at the given level.
func WithLogLevel(level log.LogLevel) Option {
	return func(fs *UnionFS) {
		fs.log = log.NewLogger("unionfs", level, "", false)
	}
}

// WithLogFile creates the default logger writing to a rotated file in
// addition to the terminal.
func WithLogFile(level log.LogLevel, file string) Option {
	return func(fs *UnionFS) {
		fs.log = log.NewLogger("unionfs", level, file, false)
	}
}

// WithoutTerminalLog suppresses terminal output on the default logger.
// Useful for tests and embedding.
func WithoutTerminalLog() Option {
	return func(fs *UnionFS) {
		fs.log = log.NewLogger("unionfs", log.Warn, "", true)
	}
}

// WithoutAccessTimeUpdates stops reads from advancing access times on
// writable branches, the way a noatime mount would.
func WithoutAccessTimeUpdates() Option {
	return func(fs *UnionFS) {
		fs.noAtime = true
	}
}

// WithCopyBufferSize sets the chunk size used when copying file content
// between branches.
func WithCopyBufferSize(size int) Option {
	return func(fs *UnionFS) {
		if size > 0 {
			fs.copyBufSize = size
		}
	}
}
