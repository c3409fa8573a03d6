package inventory

func (s *Sweeper) EscalatedCount() int { return len(s.escalated) }
