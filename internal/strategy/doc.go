// Package strategy holds the scheduling-strategy table and the
// meta-learner that scores, adapts, and evolves it. All mutation of the
// population goes through the MetaLearner; the Registry only loads,
// persists, and serves snapshots.
package strategy
