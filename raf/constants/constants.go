package constants

// Claim type codes carried on normalized service records. The values follow
// the NCH claim type codes CMS uses when deciding risk adjustment eligibility.
const (
	ClaimTypeProfessional = "71"
	ClaimTypeOutpatient   = "72"
	ClaimTypeInpatient    = "73"
)

// X12 implementation convention references (ST03, falling back to GS08).
const (
	Qualifier837P = "005010X222A1"
	Qualifier837I = "005010X223A2"
)

// Segment keys for the community model coefficient columns.
const (
	SegmentCommunityNonDualAged     = "CNA"
	SegmentCommunityNonDualDisabled = "CND"
	SegmentCommunityPartialAged     = "CPA"
	SegmentCommunityPartialDisabled = "CPD"
	SegmentCommunityFullAged        = "CFA"
	SegmentCommunityFullDisabled    = "CFD"
	SegmentInstitutional            = "INS"
	SegmentNewEnrollee              = "NE"
	SegmentSNPNewEnrollee           = "SNPNE"
)

// ESRD segment keys.
const (
	SegmentDialysis            = "DI"
	SegmentDialysisNewEnrollee = "DNE"
	SegmentGraft0to3           = "GRAFT_0_3"
	SegmentGraft4to9           = "GRAFT_4_9"
)

// Dual eligibility codes accepted on input.
const (
	DualNone    = "00"
	DualPartial = "01"
	DualFull    = "02"
)

const DefaultModelYear = "2026"

// This is set during compilation. See build_and_package.sh in the ops repo.
var Version = "latest"
