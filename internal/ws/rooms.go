package ws

import "sync"

func FightRoom(fightID string) string { return "fight:" + fightID }
func UserRoom(userID string) string { return "user:" + userID }

// Rooms groups peers by fight and by user. Membership is additive: a peer
// sits in its user room and in every fight room it joined.
type Rooms struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Peer // room -> peer id -> peer
	joined map[string]map[string]bool // peer id -> rooms
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms:  make(map[string]map[string]Peer),
		joined: make(map[string]map[string]bool),
	}
}

func (r *Rooms) Join(room string, p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[string]Peer)
		r.rooms[room] = members
	}
	members[p.ID()] = p

	rs, ok := r.joined[p.ID()]
	if !ok {
		rs = make(map[string]bool)
		r.joined[p.ID()] = rs
	}
	rs[room] = true
}

// LeaveAll drops p from every room it joined.
func (r *Rooms) LeaveAll(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.joined[p.ID()] {
		if members, ok := r.rooms[room]; ok {
			delete(members, p.ID())
			if len(members) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	delete(r.joined, p.ID())
}

// Broadcast queues msg for every current member of room and returns how
// many accepted it. Delivery is best effort.
func (r *Rooms) Broadcast(room string, msg []byte) int {
	r.mu.RLock()
	members := make([]Peer, 0, len(r.rooms[room]))
	for _, p := range r.rooms[room] {
		members = append(members, p)
	}
	r.mu.RUnlock()

	n := 0
	for _, p := range members {
		if p.Send(msg) {
			n++
		}
	}
	return n
}

func (r *Rooms) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}
