// Package download fetches objects and whole folders out of the store.
//
// Objects up to LargeThreshold are fetched through a signed GET URL.
// Larger objects are read with ranged GETs sized by the chunking policy;
// after every range the confirmed offset is checkpointed so an interrupted
// download continues where it stopped. Archived objects that have not been
// restored are refused with common.ErrArchivedNotReady before any byte is
// requested.
//
// Folder downloads fetch eligible objects in batches of BatchSize and pack
// them into one zip archive handed to a Saver.
package download
