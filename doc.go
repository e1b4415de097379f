// Package mediadb holds the pieces shared by every layer of the music
// library store: the error kinds callers match with errors.Is, and the
// BLAKE3 digests used to fingerprint persisted library files.
//
// The store itself lives in store/tree, the file format in store/dbfile.
package mediadb
