// Package spotify implements the fetcher.Fetcher interface against the
// music catalog provider's web API: it resolves track, album, and
// artist references to concrete track lists and retrieves the audio
// into the local library.
package spotify
