// Package coro implements a cooperative, single-threaded scheduler for
// long-lived routines. Routines yield explicitly, block themselves while
// waiting for an external edge, and are woken by unblock; nothing preempts.
//
// The engine keeps two intrusive doubly-linked lists, alive and blocked,
// that partition the routine set at every instant. Scheduling is entirely
// defined by list shape: yield transfers to the first alive routine that is
// not the current one, block(self) transfers to the idle context (the Run
// loop), unblock moves a routine to the alive head without preempting.
//
// Mechanically each routine is a goroutine parked on its own resume channel,
// and exactly one control token exists: the holder is either a routine or
// the Run loop. A transfer is "hand the token to the target, then wait for
// it back". This gives the same observable behaviour as a shared-stack
// switch without copying stacks, which Go cannot portably do.
//
// The engine is single-owner: every method except Post must be called from
// the engine's own thread (inside Run, i.e. from routine bodies or posted
// functions). External threads inject work through Post; the Run loop drains
// posted functions whenever it holds the token and parks on them when
// everything is blocked.
//
// © 2025 stripecache authors. MIT License.
package coro

import (
	"go.uber.org/zap"
)

// Routine is one cooperatively-scheduled execution context. It lives in
// exactly one of the engine's lists until its body returns.
type Routine struct {
	engine  *Engine
	resume  chan struct{}
	blocked bool

	prev *Routine
	next *Routine
}

// Engine schedules routines on the goroutine that called Run.
type Engine struct {
	log *zap.Logger

	// alive and blocked are heads of nil-terminated intrusive lists; new
	// members are pushed at the front.
	alive   *Routine
	blocked *Routine

	// cur is the routine holding the control token, nil while the Run loop
	// (the idle context) holds it.
	cur *Routine

	// idle resumes the Run loop when a routine finishes or blocks itself.
	idle chan struct{}

	// ext carries functions posted from other threads; they run on the
	// engine thread.
	ext chan func()

	routines int
}

// New constructs an engine. The logger is used only for routine failures.
func New(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		log:  log,
		idle: make(chan struct{}, 1),
		ext:  make(chan func(), 128),
	}
}

/*
   -------- List plumbing (engine thread only) --------
*/

func push(head **Routine, r *Routine) {
	r.prev = nil
	r.next = *head
	if *head != nil {
		(*head).prev = r
	}
	*head = r
}

func remove(head **Routine, r *Routine) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		*head = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	}
	r.prev, r.next = nil, nil
}

/*
   -------- Public API --------
*/

// Go creates a routine out of body and places it at the alive head. The new
// routine does not run until the scheduler reaches it. Engine thread only.
func (e *Engine) Go(body func()) *Routine {
	r := &Routine{
		engine: e,
		resume: make(chan struct{}, 1),
	}
	push(&e.alive, r)
	e.routines++

	go func() {
		<-r.resume
		func() {
			defer func() {
				if p := recover(); p != nil {
					e.log.Error("routine failed", zap.Any("reason", p))
				}
			}()
			body()
		}()
		e.finish(r)
	}()
	return r
}

// Run drives the scheduler until no routine is alive and none can ever be
// woken again. entry becomes the first routine. Run owns the calling
// goroutine for its whole duration; it is the idle context routines return
// to when they block.
func (e *Engine) Run(entry func()) {
	e.Go(entry)

	for {
		// Posted work first: it may unblock routines.
		for {
			select {
			case f := <-e.ext:
				f()
				continue
			default:
			}
			break
		}

		if r := e.alive; r != nil {
			e.cur = r
			r.resume <- struct{}{}
			<-e.idle
			continue
		}

		if e.blocked == nil {
			return
		}

		// Everything is blocked: only an external event can make progress.
		f := <-e.ext
		f()
	}
}

// Yield surrenders control to the first alive routine other than the
// current one; with no such routine it simply returns.
func (e *Engine) Yield() {
	next := e.alive
	if next == e.cur {
		next = next.next
	}
	if next == nil {
		return
	}
	e.switchTo(next)
}

// Sched transfers control to r. A nil or current target degrades to Yield.
func (e *Engine) Sched(r *Routine) {
	if r == nil || r == e.cur {
		e.Yield()
		return
	}
	e.switchTo(r)
}

// Block marks r (or the current routine when r is nil) blocked and unlinks
// it from the alive list. Blocking the current routine immediately hands
// control to the idle context.
func (e *Engine) Block(r *Routine) {
	if r == nil {
		r = e.cur
	}
	if r == nil || r.blocked {
		return
	}
	r.blocked = true
	remove(&e.alive, r)
	push(&e.blocked, r)

	if r == e.cur {
		e.cur = nil
		e.idle <- struct{}{}
		<-r.resume
	}
}

// Unblock moves r back to the alive head. It never preempts: the caller
// keeps running.
func (e *Engine) Unblock(r *Routine) {
	if r == nil || !r.blocked {
		return
	}
	r.blocked = false
	remove(&e.blocked, r)
	push(&e.alive, r)
}

// Post hands f to the engine thread. It is the only method safe to call
// from other goroutines; everything else the engine owns is touched only by
// the posted function once the engine runs it.
func (e *Engine) Post(f func()) {
	e.ext <- f
}

// Current returns the routine holding the control token, nil from the idle
// context. Engine thread only.
func (e *Engine) Current() *Routine {
	return e.cur
}

// Routines reports how many routines have been created and not yet finished.
// Engine thread only.
func (e *Engine) Routines() int {
	return e.routines
}

/*
   -------- Internals --------
*/

// switchTo hands the token to target and parks the current holder until it
// is scheduled again.
func (e *Engine) switchTo(target *Routine) {
	self := e.cur
	e.cur = target
	target.resume <- struct{}{}
	<-self.resume
	// Resumed: the scheduler handed the token back to us. cur was updated
	// by whoever resumed us.
}

// finish retires the current routine after its body returned and hands the
// token to the idle context. Runs on the routine's goroutine.
func (e *Engine) finish(r *Routine) {
	if r.blocked {
		// A routine body may only return while running, hence alive.
		remove(&e.blocked, r)
	} else {
		remove(&e.alive, r)
	}
	e.routines--
	e.cur = nil
	e.idle <- struct{}{}
}
