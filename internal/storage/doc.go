// Package storage persists the learning substrate: the append-only
// execution history, the append-only prediction comparison log, and the
// strategy table. Two drivers share one contract: "file" (JSON Lines +
// atomic snapshot) and "sqlite".
package storage
