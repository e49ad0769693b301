package memory

// IndexCount exposes the vector count for alignment checks.
func IndexCount(s *Store) int { return s.index.Count() }

// PositionCount exposes the size of the id to position map.
func PositionCount(s *Store) int { return len(s.positions) }

// IndexDimensions exposes the vector size of the live index.
func IndexDimensions(s *Store) int { return s.index.Dimensions() }
