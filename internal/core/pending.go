package core

// pending keeps deletions and transcriptions for messages the store does not hold yet
// while a page fetch is in flight. They are replayed once the page lands.
type pending struct {
	tombstones     map[string]struct{}
	hides          map[string]struct{}
	transcriptions map[string]*string
}

func (p *pending) tombstone(id string) {
	if p.tombstones == nil {
		p.tombstones = make(map[string]struct{})
	}
	p.tombstones[id] = struct{}{}
}

func (p *pending) hide(id string) {
	if p.hides == nil {
		p.hides = make(map[string]struct{})
	}
	p.hides[id] = struct{}{}
}

func (p *pending) transcription(id string, text *string) {
	if p.transcriptions == nil {
		p.transcriptions = make(map[string]*string)
	}
	p.transcriptions[id] = copyText(text)
}

// apply replays every recorded operation onto s. Tombstones go last so they win.
// It returns the ids tombstoned by this call.
func (p *pending) apply(s *Store, viewer string) (changed bool, deleted []string) {
	for id, text := range p.transcriptions {
		if s.ApplyTranscription(id, text) {
			changed = true
		}
	}
	for id := range p.hides {
		if s.Hide(id, viewer) {
			changed = true
		}
	}
	for id := range p.tombstones {
		if s.Tombstone(id) {
			changed = true
			deleted = append(deleted, id)
		}
	}
	return changed, deleted
}

func (p *pending) reset() {
	p.tombstones = nil
	p.hides = nil
	p.transcriptions = nil
}
