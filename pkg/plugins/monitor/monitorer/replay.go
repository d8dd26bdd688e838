package monitorer

import "slices"

// Replay folds deltas into the catch up a monitorer would have returned right after the last one.
// Errors and renegotiations only belong to deltas and are not kept.
func Replay(ds []Delta) Delta {
	cu := newDelta()
	for _, d := range ds {
		cu.At = d.At

		// Additions
		cu.NewStats = append(cu.NewStats, d.NewStats...)
		cu.StartedChains = append(cu.StartedChains, d.StartedChains...)
		cu.StartedNodes = append(cu.StartedNodes, d.StartedNodes...)
		cu.ConnectedNodes = append(cu.ConnectedNodes, d.ConnectedNodes...)
		for _, s := range d.ChainStates {
			if idx := slices.IndexFunc(cu.ChainStates, func(v DeltaChainState) bool { return v.ChainID == s.ChainID }); idx >= 0 {
				cu.ChainStates[idx] = s
			} else {
				cu.ChainStates = append(cu.ChainStates, s)
			}
		}

		// Removals
		for _, dc := range d.DisconnectedNodes {
			cu.ConnectedNodes = slices.DeleteFunc(cu.ConnectedNodes, func(v DeltaConnection) bool { return v == dc })
			cu.NewStats = slices.DeleteFunc(cu.NewStats, func(s DeltaStat) bool {
				return s.EdgeID != nil && *s.EdgeID == dc.EdgeID
			})
		}
		for _, id := range d.DoneNodes {
			cu.StartedNodes = slices.DeleteFunc(cu.StartedNodes, func(v DeltaNode) bool { return v.ID == id })
			cu.NewStats = slices.DeleteFunc(cu.NewStats, func(s DeltaStat) bool {
				return s.NodeID != nil && *s.NodeID == id
			})
		}
		for _, id := range d.DoneChains {
			cu.StartedChains = slices.DeleteFunc(cu.StartedChains, func(v DeltaChain) bool { return v.ID == id })
			cu.ChainStates = slices.DeleteFunc(cu.ChainStates, func(v DeltaChainState) bool { return v.ChainID == id })
			cu.NewStats = slices.DeleteFunc(cu.NewStats, func(s DeltaStat) bool {
				return s.ChainID != nil && *s.ChainID == id && s.EdgeID == nil && s.NodeID == nil
			})
		}

		// Values
		if len(d.StatValues) > 0 {
			cu.StatValues = make(map[uint64]interface{}, len(d.StatValues))
			for k, v := range d.StatValues {
				cu.StatValues[k] = v
			}
		}
	}
	return *cu
}
