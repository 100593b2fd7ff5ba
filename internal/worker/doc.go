// Package worker implements the leaf unit of sensord: one volatile,
// optional reading per (group, worker) pair.
//
// A worker answers Read with its reading verbatim, overwrites it on Record
// and stops on Passivate. It has no error conditions; messages it does not
// understand are logged and ignored. The reading is lost when the worker
// stops.
//
// Workers are only ever created by their group, which watches them and
// drops them from its membership when they stop.
package worker
