// Package assets holds the immutable asset registry of one worker instance:
// the generation identifier supplied by the build, the cache generation name
// derived from it, and the ordered set of paths that must be resident in that
// generation before the instance may serve. The registry is built once at
// startup and passed explicitly to the lifecycle manager and the resolver.
package assets
