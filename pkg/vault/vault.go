// Package vault is the single source of truth for persisted App and
// Instance records (spec §4.1): a reservation-based store that mediates
// every read and write through a short-lived, atomically acquired guard
// over one or both pouches, and flushes dirty pouches to one
// JSON-file-per-record directory on release. Grounded on the teacher's
// pkg/storage (directory layout, corrupt-record handling style) with the
// storage engine itself replaced: spec §6 mandates a directory of JSON
// files rather than bolt's single embedded database, so go.etcd.io/bbolt
// is not used here (see DESIGN.md).
package vault

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/flecs-technologies/flecs-core/pkg/types"
)

// Vault owns the apps and instances pouches and the directories they
// persist to.
type Vault struct {
	basePath  string
	apps      *AppPouch
	instances *InstancePouch
}

// Open loads both pouches from <basePath>/apps and <basePath>/instances,
// creating the directories if absent.
func Open(basePath string) (*Vault, error) {
	apps, err := loadAppPouch(filepath.Join(basePath, "apps"))
	if err != nil {
		return nil, fmt.Errorf("load apps pouch: %w", err)
	}
	instances, err := loadInstancePouch(filepath.Join(basePath, "instances"))
	if err != nil {
		return nil, fmt.Errorf("load instances pouch: %w", err)
	}
	return &Vault{basePath: basePath, apps: apps, instances: instances}, nil
}

// Reservation begins a declaration of intent: which pouches a caller
// needs, and whether mutably. A reservation that declares no pouch is a
// no-op whose Grab returns an empty Guard.
func (v *Vault) Reservation() *Reservation {
	return &Reservation{vault: v}
}

// Reservation is a builder for the set of pouches a caller intends to
// touch. It is not itself a lock; nothing is acquired until Grab.
type Reservation struct {
	vault         *Vault
	wantApps      bool
	appsMut       bool
	wantInstances bool
	instancesMut  bool
}

// ReserveApps declares that the apps pouch is needed, mutably if mut is
// true.
func (r *Reservation) ReserveApps(mut bool) *Reservation {
	r.wantApps = true
	r.appsMut = r.appsMut || mut
	return r
}

// ReserveInstances declares that the instances pouch is needed, mutably
// if mut is true.
func (r *Reservation) ReserveInstances(mut bool) *Reservation {
	r.wantInstances = true
	r.instancesMut = r.instancesMut || mut
	return r
}

// Grab acquires all declared pouches atomically, in the fixed order apps
// before instances, to prevent deadlock across concurrent reservations
// covering overlapping pouch sets (spec §4.1/§5). It blocks until every
// declared lock is held.
func (r *Reservation) Grab() *Guard {
	if r.wantApps {
		lockPouch(&r.vault.apps.mu, r.appsMut)
	}
	if r.wantInstances {
		lockPouch(&r.vault.instances.mu, r.instancesMut)
	}
	return &Guard{reservation: r}
}

func lockPouch(mu rwLocker, mut bool) {
	if mut {
		mu.Lock()
	} else {
		mu.RLock()
	}
}

// rwLocker is satisfied by *sync.RWMutex; declared here so lockPouch and
// unlockPouch take the interface instead of the concrete type.
type rwLocker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// Guard is the RAII-style handle returned by Grab: it exposes only the
// pouches the originating reservation declared, and releasing it
// unlocks and flushes them. A Guard must not outlive a single task; it
// is not safe to retain across a suspension that reenters the vault for
// the same pouch (spec §5).
type Guard struct {
	reservation *Reservation
	released    bool
}

// AppPouch returns the apps pouch for reading. Panics (a programming
// error per spec §4.1) if the originating reservation did not declare
// the apps pouch.
func (g *Guard) AppPouch() *AppPouch {
	if !g.reservation.wantApps {
		panic("vault: accessed apps pouch without reserving it")
	}
	return g.reservation.vault.apps
}

// AppPouchMut returns the apps pouch for writing. Panics if the
// reservation did not declare it mutable.
func (g *Guard) AppPouchMut() *AppPouch {
	if !g.reservation.appsMut {
		panic("vault: accessed apps pouch mutably without reserving it mutably")
	}
	return g.reservation.vault.apps
}

// InstancePouch returns the instances pouch for reading. Panics if the
// reservation did not declare it.
func (g *Guard) InstancePouch() *InstancePouch {
	if !g.reservation.wantInstances {
		panic("vault: accessed instances pouch without reserving it")
	}
	return g.reservation.vault.instances
}

// InstancePouchMut returns the instances pouch for writing. Panics if the
// reservation did not declare it mutable.
func (g *Guard) InstancePouchMut() *InstancePouch {
	if !g.reservation.instancesMut {
		panic("vault: accessed instances pouch mutably without reserving it mutably")
	}
	return g.reservation.vault.instances
}

// Release flushes any mutably-declared pouches to disk and unlocks
// everything declared, in the reverse of acquisition order. Calling
// Release more than once is a no-op. Both pouches are flushed
// independently; a failure in one does not prevent the other's flush or
// its unlock.
func (g *Guard) Release() error {
	if g.released {
		return nil
	}
	g.released = true

	var errs []error
	if g.reservation.wantInstances {
		if g.reservation.instancesMut {
			if err := g.reservation.vault.instances.flush(); err != nil {
				errs = append(errs, fmt.Errorf("flush instances pouch: %w", err))
			}
		}
		unlockPouch(&g.reservation.vault.instances.mu, g.reservation.instancesMut)
	}
	if g.reservation.wantApps {
		if g.reservation.appsMut {
			if err := g.reservation.vault.apps.flush(); err != nil {
				errs = append(errs, fmt.Errorf("flush apps pouch: %w", err))
			}
		}
		unlockPouch(&g.reservation.vault.apps.mu, g.reservation.appsMut)
	}
	return errors.Join(errs...)
}

func unlockPouch(mu rwLocker, mut bool) {
	if mut {
		mu.Unlock()
	} else {
		mu.RUnlock()
	}
}
