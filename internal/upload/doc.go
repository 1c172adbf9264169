// Package upload moves local payloads into the object store.
//
// The path is chosen by size (see chunking.StrategyFor):
//
//   - below 25 MiB the payload is buffered and sent with one PUT;
//   - up to 100 MiB it is buffered and sent as fixed 5 MiB parts;
//   - up to 1 GiB the store's concurrent managed uploader is used;
//   - above that parts are read and sent one at a time, each retried under
//     the engine's retry.Policy.
//
// The buffered paths fall back to the sequential path when the memory probe
// refuses the allocation or the payload cannot be read. The sequential path
// records its multipart session in the resumable store so a paused or
// interrupted upload continues from the last confirmed part.
package upload
