// Package fetch downloads resolved catalog candidates into the download
// directory.
//
// Downloads stream into a temporary file beside the destination and are only
// renamed into place after the size checks pass, so the final path either
// does not exist or holds a complete file. File names derive from the
// candidate's sanitized title and format, never from upstream paths.
package fetch
