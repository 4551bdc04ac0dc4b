// config_features.go - Sampling- und Parallelitaets-Einstellungen
//
// Dieses Modul enthaelt:
// - Standardwerte fuer Reverse-Diffusion und Masken-Glaettung
// - Thread- und Queue-Einstellungen
package envconfig

// =============================================================================
// Sampling
// =============================================================================

var (
	// Steps ist die Standardanzahl der Integrationsschritte
	Steps = Uint("GRADTTS_STEPS", 50)

	// NoSoften schaltet die Glaettung der Edit-Masken ab
	NoSoften = Bool("GRADTTS_NO_SOFTEN")

	// NSoften ist die halbe Kernelbreite der Masken-Glaettung
	NSoften = Uint("GRADTTS_N_SOFTEN", 20)

	// Seed fixiert den Zufallsgenerator, 0 = zufaellig pro Request
	Seed = Uint64("GRADTTS_SEED", 0)
)

// =============================================================================
// Parallelitaets- und Queue-Einstellungen
// =============================================================================

var (
	// NumThreads begrenzt die Goroutinen pro Rechenkern, 0 = alle CPUs
	// Konfigurierbar via GRADTTS_NUM_THREADS
	NumThreads = Uint("GRADTTS_NUM_THREADS", 0)

	// MaxQueue setzt die maximale Anzahl wartender Requests
	// Konfigurierbar via GRADTTS_MAX_QUEUE
	MaxQueue = Uint("GRADTTS_MAX_QUEUE", 16)
)
