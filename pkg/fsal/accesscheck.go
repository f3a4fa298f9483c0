package fsal

// CheckAccess evaluates an access mask against an attribute snapshot and the
// caller's credentials.
//
// The ACE half of the mask goes through ordered ACL evaluation when the
// snapshot carries an ACL; without one it is folded onto the equivalent POSIX
// probes. The mode-probe half always evaluates against the permission bits.
// Delegates that keep authority in attribute snapshots can implement
// TestAccess directly on top of this.
func CheckAccess(creds Credentials, attrs *Attributes, mask AccessMask) (allowed, denied AccessMask) {
	if attrs.ACL != nil {
		a, d := attrs.ACL.Evaluate(creds, attrs.Owner, attrs.Group, mask.ACEBits())
		allowed |= a
		denied |= d
	} else if aceBits := mask.ACEBits(); aceBits != 0 {
		probes := aceToModeProbes(aceBits)
		if _, d := modeEvaluate(creds, attrs, probes); d != 0 {
			denied |= aceBits
		} else {
			allowed |= aceBits
		}
	}

	if probes := mask.ModeBits(); probes != 0 {
		a, d := modeEvaluate(creds, attrs, probes)
		allowed |= a
		denied |= d
	}
	return allowed, denied
}

// aceToModeProbes maps ACE permission bits onto the read/write/execute
// probes they correspond to on a mode-bit filesystem.
func aceToModeProbes(bits AccessMask) AccessMask {
	var probes AccessMask
	if bits&(PermReadData|PermReadAttr|PermReadACL) != 0 {
		probes |= ModeReadOK
	}
	if bits&(PermWriteData|PermAppendData|PermDeleteChild|
		PermWriteAttr|PermWriteACL|PermWriteOwner|PermDelete) != 0 {
		probes |= ModeWriteOK
	}
	if bits&PermExecute != 0 {
		probes |= ModeExecOK
	}
	return probes
}

// modeEvaluate checks the requested probes against the owner/group/other
// permission triad. Root passes everything except execute, which still
// requires at least one execute bit on non-directories.
func modeEvaluate(creds Credentials, attrs *Attributes, probes AccessMask) (allowed, denied AccessMask) {
	if creds.Privileged() {
		if probes.Has(ModeExecOK) &&
			attrs.Type != TypeDirectory &&
			attrs.Mode&ModeAnyExec == 0 {
			return probes &^ ModeExecOK, ModeExecOK
		}
		return probes, 0
	}

	var shift uint32
	switch {
	case creds.UID == attrs.Owner:
		shift = 6
	case creds.InGroup(attrs.Group):
		shift = 3
	default:
		shift = 0
	}
	bits := (attrs.Mode >> shift) & 0o7

	check := func(probe AccessMask, bit uint32) {
		if !probes.Has(probe) {
			return
		}
		if bits&bit != 0 {
			allowed |= probe
		} else {
			denied |= probe
		}
	}
	check(ModeReadOK, 0o4)
	check(ModeWriteOK, 0o2)
	check(ModeExecOK, 0o1)
	return allowed, denied
}
