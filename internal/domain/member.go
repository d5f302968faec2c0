package domain

// Member is the read-only view of a room participant sent to peers.
// No transport or media state here.
type Member struct {
	ID       ParticipantID `json:"id"`
	Metadata Metadata      `json:"metadata"`
}

func NewMember(id ParticipantID, meta Metadata) Member {
	return Member{ID: id, Metadata: meta}
}
