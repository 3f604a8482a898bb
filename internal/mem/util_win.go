//go:build windows

package mem

func lockMemoryPlatform() (ProtectionLevel, error) {
	// VirtualLock is per-region; keys are already held in memguard enclaves
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
