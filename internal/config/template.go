package config

// defaultTemplate is the built-in LeaseTrack workflow: the retail lease
// acquisition pipeline in both lineages (stage graph and numbered steps).
const defaultTemplate = `engine:
  mode: graph

workflow:
  root: Option_Identified
  terminal_stage: Operational
  drop:
    stage: Watchlist
    sub_status: "To be dropped"

  stages:
    Option_Identified:
      label: "Option Identified"
      role: State_RE
      sub_statuses:
        - "Option Identified"
      checklist:
        - "Identify potential site"
        - "Enter basic details"
      fields:
        - name: location_coordinates
          label: "Location Coordinates"
          type: text
          required: true
        - name: carpet_area
          label: "Carpet Area (sqft)"
          type: number
          required: true
        - name: photos
          label: "Site Photos"
          type: file
          required: true
      transitions:
        - label: "Submit for Validation"
          target_stage: Under_BT_Validation
          target_sub_status: "Under BT Validation"

    Under_BT_Validation:
      label: "Under BT Validation"
      role: BT
      sub_statuses:
        - "Under BT Validation"
        - "LT to revert on BT query"
      checklist:
        - "Validate Catchment"
        - "Check Cannibalization"
      fields:
        - name: sales_projection
          label: "Annual Sales Projection"
          type: number
          required: true
        - name: catchment_score
          label: "Catchment Score (1-10)"
          type: number
      transitions:
        - label: "Approve & Move to Negotiation"
          target_stage: Under_Negotiation
          target_sub_status: "Under Negotiation"
        - label: "Raise Query to State RE"
          target_stage: Under_BT_Validation
          target_sub_status: "LT to revert on BT query"
          action_role: State_RE
        - label: "Reject / Drop"
          target_stage: Watchlist
          target_sub_status: "To be dropped"

    Under_Negotiation:
      label: "Under Negotiation"
      role: State_RE
      sub_statuses:
        - "Under Negotiation"
        - "Under Rate Validation"
        - "SDR Pending"
        - "Delayed as BTS / Under Construction"
      checklist:
        - "Negotiate Rentals"
        - "Confirm CAPEX scope"
      fields:
        - name: negotiated_rent
          label: "Negotiated Rent"
          type: number
          required: true
        - name: capex_ask
          label: "Landlord Capex Scope"
          type: text
      transitions:
        - label: "Submit for Rate Validation"
          target_stage: Under_Negotiation
          target_sub_status: "Under Rate Validation"
          action_role: BT
        - label: "Submit for BT Approval"
          target_stage: Under_BT_Approvals
          target_sub_status: "Business feasibility pending"

    Under_BT_Approvals:
      label: "Under BT Approvals"
      role: BT
      sub_statuses:
        - "Business feasibility pending"
        - "Layout approval Pending"
        - "Under SCO approval"
        - "Under SOW approval"
      checklist:
        - "Finalize Sales Projection"
        - "Approve Layout"
        - "Freeze Scope of Work"
      fields:
        - name: final_projection
          label: "Final Sales Projection"
          type: number
          required: true
        - name: layout_plan
          label: "Layout Plan"
          type: file
          required: true
      transitions:
        - label: "Approve & Move to Termsheet"
          target_stage: Termsheet_Approval_Process
          target_sub_status: "Under NHQ RE / Finance Approval"

    Termsheet_Approval_Process:
      label: "Termsheet Approval"
      role: RE_NHQ
      sub_statuses:
        - "Under NHQ RE / Finance Approval"
        - "Termsheet under BT approval"
        - "Termsheet under LT signoff"
        - "Under Apex Approval"
      checklist:
        - "Validate Commercial Terms"
        - "Ensure Budget Adherence"
      fields:
        - name: commercial_terms
          label: "Final Commercial Terms"
          type: text
          required: true
        - name: standard_clause_deviation
          label: "Deviation from Standard Clauses"
          type: text
      transitions:
        - label: "Approve & Move to Acquisition"
          target_stage: Under_Acquisition
          target_sub_status: "Under Legal Due Diligence"

    Under_Acquisition:
      label: "Under Acquisition"
      role: Legal
      sub_statuses:
        - "Under Legal Due Diligence"
        - "Under LOI / Agreement"
        - "LOI / MOU signed"
        - "Under Owner SOW completion"
        - "ATL signed"
        - "Agreement registered"
        - "RFC Offered"
      checklist:
        - "Clear Title Check"
        - "Sign Agreements"
        - "Register Lease"
      fields:
        - name: ldd_report
          label: "LDD Report"
          type: file
          required: true
        - name: registration_date
          label: "Registration Date"
          type: date
      transitions:
        - label: "Handover to Projects (RFC)"
          target_stage: RFC_Process
          target_sub_status: "RFC Done – Fitout to start"

    RFC_Process:
      label: "RFC / Fitout"
      role: Projects
      sub_statuses:
        - "RFC Done – Fitout to start"
        - "RFC Done – under Fitout"
        - "RFC Done – Fitout on hold"
      checklist:
        - "Project Planning"
        - "Execution"
        - "Store Handover"
      fields:
        - name: handover_date
          label: "Store Handover Date"
          type: date
          required: true
      transitions:
        - label: "Mark Operational"
          target_stage: Operational
          target_sub_status: "Operational"

    Operational:
      label: "Operational"
      role: Central_SSO
      sub_statuses:
        - "Operational"
      fields:
        - name: go_live_date
          label: "Go Live Date"
          type: date
          required: true
      transitions:
        - label: "Start Rent Declaration"
          target_stage: Rent_Declaration
          target_sub_status: "RD by State RE"

    Rent_Declaration:
      label: "Rent Declaration"
      role: Finance
      sub_statuses:
        - "RD by State RE"
        - "RD approved by BT"
        - "RD submitted to Central SSO"
      checklist:
        - "Start Rent Payment"
        - "Activate in ERP"
      fields:
        - name: payment_start_date
          label: "Rent Payment Start Date"
          type: date
          required: true
        - name: vendor_code
          label: "SAP Vendor Code"
          type: text
      transitions: []

    Watchlist:
      label: "Watchlist"
      role: BT
      sub_statuses:
        - "Hold by BT"
        - "Hold by RE"
        - "Long Lead"
        - "To be dropped"
      fields: []
      transitions: []

  active_role_overrides:
    - stage: Under_BT_Validation
      sub_status: "LT to revert on BT query"
      role: State_RE
    - stage: Under_Negotiation
      sub_status: "Under Rate Validation"
      role: BT
    - stage: Termsheet_Approval_Process
      sub_status: "Termsheet under BT approval"
      role: BT
    - stage: Termsheet_Approval_Process
      sub_status: "Under Apex Approval"
      role: APEX
    - stage: Rent_Declaration
      sub_status: "RD by State RE"
      role: State_RE
    - stage: Rent_Declaration
      sub_status: "RD approved by BT"
      role: BT

  response_edges:
    - stage: Under_BT_Validation
      sub_status: "LT to revert on BT query"
      transition:
        label: "Respond to BT"
        target_stage: Under_BT_Validation
        target_sub_status: "Under BT Validation"
    - stage: Under_Negotiation
      sub_status: "Under Rate Validation"
      transition:
        label: "Validate Rate & Return"
        target_stage: Under_Negotiation
        target_sub_status: "Under Negotiation"

  annotations:
    - stage: Under_Negotiation
      field: negotiated_rent
      above: 500000
      remark: "[High Rent Alert: negotiated rent exceeds threshold]"

steps:
  1:
    role: State_RE_LT
    name: "Lead Creation"
    checklist:
      - "Enter property address and title"
      - "Upload initial site photos"
      - "Provide basic site measurements"
    fields:
      - name: address
        label: "Property Address"
        type: text
        required: true
      - name: city
        label: "City"
        type: text
        required: true
      - name: area_sqft
        label: "Carpet Area (sqft)"
        type: number
        required: true
      - name: asking_rent
        label: "Asking Rent"
        type: number
        required: true
  2:
    role: BT
    name: "Validation (BT)"
    checklist:
      - "Verify location suitability"
      - "Review format specifications"
      - "Check competition proximity"
    drop_when:
      field: feasibility
      value: "No"
    fields:
      - name: feasibility
        label: "Feasibility Study Result"
        type: select
        options: ["Yes", "No"]
        required: true
      - name: sales_projection
        label: "Annual Sales Projection"
        type: number
        required: true
      - name: format_suitability
        label: "Format Suitability"
        type: text
        required: true
  3:
    role: EPC
    name: "Due Diligence (SDR)"
    checklist:
      - "Conduct Site Due Diligence Report (SDR)"
      - "Check power availability"
      - "Inspect structural integrity"
    fields:
      - name: sdr_report_link
        label: "SDR Report Link/Reference"
        type: text
        required: true
      - name: power_load
        label: "Maximum Power Load (kW)"
        type: number
        required: true
      - name: structural_status
        label: "Structural Status"
        type: text
        required: true
  4:
    role: RE_NHQ
    name: "NHQ Commercial Validation"
    checklist:
      - "Check viability vs benchmarks"
      - "Validate rent data for catchment"
    fields:
      - name: is_viable
        label: "Commercial Viability"
        type: select
        options: ["Yes", "No"]
        required: true
      - name: nhq_remarks
        label: "NHQ Remarks"
        type: text
        required: true
  5:
    role: State_RE_LT
    name: "Renegotiation"
    checklist:
      - "Renegotiate based on NHQ feedback"
      - "Prepare final term sheet"
    fields:
      - name: final_rent
        label: "Final Negotiated Rent"
        type: number
        required: true
      - name: term_sheet_link
        label: "Term Sheet Link"
        type: text
        required: true
  6:
    role: RE_NHQ
    name: "NHQ Final Approval"
    checklist:
      - "Verify renegotiated terms"
      - "Check for CAM concerns"
    fields:
      - name: final_nhq_approval
        label: "Final NHQ Approval"
        type: select
        options: ["Approved", "Rejected"]
        required: true
      - name: cam_remarks
        label: "CAM/Operational Remarks"
        type: text
  7:
    role: APEX
    name: "Financial Approval (APEX)"
    checklist:
      - "Review CAPEX and P&L projections"
      - "Final financial sign-off"
    fields:
      - name: capex_amount
        label: "Total CAPEX"
        type: number
        required: true
      - name: p_and_l_link
        label: "5-Year P&L Projection Link"
        type: text
        required: true
      - name: apex_status
        label: "Apex Decision"
        type: select
        options: ["Approved", "Rejected"]
        required: true
  8:
    role: RE_NHQ
    name: "Site Code Release"
    checklist:
      - "Generate Site Code in ERP"
      - "Intimate all stakeholders"
    fields:
      - name: site_code
        label: "Generated Site Code"
        type: text
        required: true
  9:
    role: Legal
    name: "Legal Due Diligence (LDD)"
    checklist:
      - "Verify title deeds"
      - "Draft LOI/MOU/ATL"
      - "Finalize lease agreement"
    fields:
      - name: ldd_status
        label: "LDD Result"
        type: select
        options: ["Clear", "Issues Found"]
        required: true
      - name: agreement_type
        label: "Agreement Type Signed"
        type: text
        required: true
  10:
    role: NSO
    name: "Fitment & Store Launch"
    checklist:
      - "Coordinate merchandising"
      - "Oversee fit-out work"
      - "Plan launch events"
    fields:
      - name: possession_date
        label: "Possession Date"
        type: date
        required: true
      - name: launch_date
        label: "Store Launch Date"
        type: date
        required: true
  11:
    role: State_RE_LT
    name: "Rent Declaration"
    checklist:
      - "Declare rent start after registration"
      - "Upload registration documents"
    fields:
      - name: rent_start_date
        label: "Rent Start Date"
        type: date
        required: true
      - name: registration_link
        label: "Lease Registration Doc Link"
        type: text
        required: true

webhooks: []
`
