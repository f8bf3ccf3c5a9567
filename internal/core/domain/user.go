package domain

import "fmt"

// UserID est attribué par le stockage. Opaque pour le cœur.
type UserID int64

// --- ENTITÉ ---

type UserRecord struct {
	ID   UserID
	Name string
}

// NewUserRecord refuse un ID nul : le stockage commence à 1 (SERIAL).
func NewUserRecord(id UserID, name string) (UserRecord, error) {
	if id <= 0 {
		return UserRecord{}, fmt.Errorf("invalid user id %d", id)
	}
	return UserRecord{ID: id, Name: name}, nil
}

// Directory est l'annuaire id <-> nom d'un snapshot.
// Immuable une fois construit par LoadDirectory.
type Directory struct {
	names map[UserID]string
	ids   map[string]UserID
}

// LoadDirectory construit un annuaire neuf à partir de la table users.
// Les noms ne sont pas uniques en base : pour le reverse lookup, le dernier ID vu gagne.
func LoadDirectory(records []UserRecord) *Directory {
	d := &Directory{
		names: make(map[UserID]string, len(records)),
		ids:   make(map[string]UserID, len(records)),
	}
	for _, r := range records {
		d.names[r.ID] = r.Name
		d.ids[r.Name] = r.ID
	}
	return d
}

func (d *Directory) NameOf(id UserID) (string, error) {
	name, ok := d.names[id]
	if !ok {
		return "", UnknownUserError(id)
	}
	return name, nil
}

// IDOf est "best effort" : voir LoadDirectory.
func (d *Directory) IDOf(name string) (UserID, error) {
	id, ok := d.ids[name]
	if !ok {
		return 0, fmt.Errorf("%w: name %q", ErrUnknownUser, name)
	}
	return id, nil
}

func (d *Directory) Has(id UserID) bool {
	_, ok := d.names[id]
	return ok
}

func (d *Directory) Len() int { return len(d.names) }

// IDs renvoie l'ensemble des utilisateurs connus (ordre non spécifié).
func (d *Directory) IDs() []UserID {
	out := make([]UserID, 0, len(d.names))
	for id := range d.names {
		out = append(out, id)
	}
	return out
}

// Record ne renvoie jamais d'erreur pour un ID du graphe (invariant de closure du snapshot).
func (d *Directory) Record(id UserID) UserRecord {
	return UserRecord{ID: id, Name: d.names[id]}
}
