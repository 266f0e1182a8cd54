// Package file is the production storage backend.
//
// File contents are kept under <storage root>/files, one file per stored
// name, named by a random ID. Metadata lives in a SQLite index at
// <storage root>/files.db. Storing an image also stores a PNG thumbnail that
// fits the configured thumbnail size while keeping the aspect ratio.
//
// Putting a name that already exists replaces it.
package file
