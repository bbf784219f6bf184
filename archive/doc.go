// Package archive reads and writes the portable archive format.
//
// A database archive is a zip file with one entry per document, named by
// document id. Each entry holds the document in the header-block format of
// package mimestream. A multi-database archive is a zip file with one entry
// per database, named by database name, whose content is that database's
// archive.
//
// Entries are written uncompressed. Nested archives are therefore read in
// place through the outer file, without extracting them.
package archive
