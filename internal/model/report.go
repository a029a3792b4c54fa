package model

// ApplicationsReport is the export view of a contract's settlement
// history.
type ApplicationsReport struct {
	Contract     Contract
	Applications []Application
}
