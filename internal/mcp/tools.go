package mcp

// The tool catalog is fixed: every name and schema below is part of the wire
// contract, and tools/list returns exactly this set for every caller.

func sstr(desc string) map[string]string {
	return map[string]string{"type": "string", "description": desc}
}

func snum(desc string) map[string]string {
	return map[string]string{"type": "number", "description": desc}
}

func sint(desc string) map[string]string {
	return map[string]string{"type": "integer", "description": desc}
}

func sobj(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func listSchema(extra map[string]any) map[string]any {
	props := map[string]any{
		"organizationId": sstr("Organization to read from"),
		"limit":          sint("Page size, max 200"),
		"cursor":         sstr("ID of the last item from the previous page"),
	}
	for k, v := range extra {
		props[k] = v
	}
	return sobj(props, "organizationId")
}

func getSchema(idDesc string) map[string]any {
	return sobj(map[string]any{
		"organizationId": sstr("Organization to read from"),
		"id":             sstr(idDesc),
	}, "organizationId", "id")
}

// proposeSchema wraps entity data in the shared proposal envelope. Agents that
// act on behalf of a model run pass agentContext so the draft is credited to
// the agent, not the bare connection.
func proposeSchema(dataProps map[string]any, dataRequired []string, withEntityID bool) map[string]any {
	props := map[string]any{
		"organizationId":   sstr("Organization the draft belongs to"),
		"label":            sstr("Short human-readable title for the draft"),
		"reasoningSummary": sstr("Why this change is being proposed"),
		"confidence":       snum("Author confidence between 0 and 1"),
		"agentContext": sobj(map[string]any{
			"label": sstr("Agent display name"),
			"tool":  sstr("Tool or model that produced the draft"),
			"runId": sstr("Run or session identifier"),
		}),
		"data": sobj(dataProps, dataRequired...),
	}
	required := []string{"organizationId", "reasoningSummary", "data"}
	if withEntityID {
		props["entityId"] = sstr("Entity the update targets")
		required = append(required, "entityId")
	}
	return sobj(props, required...)
}

func toolDefinitions() []map[string]any {
	return []map[string]any{
		{
			"name":        "org_list",
			"description": "List organizations the caller belongs to",
			"inputSchema": sobj(map[string]any{}),
		},
		{
			"name":        "org_get",
			"description": "Get one organization",
			"inputSchema": sobj(map[string]any{"organizationId": sstr("Organization ID")}, "organizationId"),
		},
		{
			"name":        "property_list",
			"description": "List properties in an organization",
			"inputSchema": listSchema(nil),
		},
		{
			"name":        "property_get",
			"description": "Get one property",
			"inputSchema": getSchema("Property ID"),
		},
		{
			"name":        "asset_list",
			"description": "List assets, optionally for one property",
			"inputSchema": listSchema(map[string]any{"propertyId": sstr("Filter by property")}),
		},
		{
			"name":        "asset_get",
			"description": "Get one asset",
			"inputSchema": getSchema("Asset ID"),
		},
		{
			"name":        "vendor_list",
			"description": "List vendors in an organization",
			"inputSchema": listSchema(nil),
		},
		{
			"name":        "vendor_get",
			"description": "Get one vendor",
			"inputSchema": getSchema("Vendor ID"),
		},
		{
			"name":        "lease_list",
			"description": "List leases, optionally for one property",
			"inputSchema": listSchema(map[string]any{"propertyId": sstr("Filter by property")}),
		},
		{
			"name":        "lease_get",
			"description": "Get one lease",
			"inputSchema": getSchema("Lease ID"),
		},
		{
			"name":        "maintenance_list",
			"description": "List maintenance events, optionally filtered by property or status",
			"inputSchema": listSchema(map[string]any{
				"propertyId": sstr("Filter by property"),
				"status":     sstr("Filter by status: open, scheduled, in_progress, completed, canceled"),
			}),
		},
		{
			"name":        "maintenance_get",
			"description": "Get one maintenance event",
			"inputSchema": getSchema("Maintenance event ID"),
		},
		{
			"name":        "document_list",
			"description": "List documents, optionally for one property",
			"inputSchema": listSchema(map[string]any{"propertyId": sstr("Filter by property")}),
		},
		{
			"name":        "document_get",
			"description": "Get one document",
			"inputSchema": getSchema("Document ID"),
		},
		{
			"name":        "finance_list",
			"description": "List finance entries, optionally filtered by property or direction",
			"inputSchema": listSchema(map[string]any{
				"propertyId": sstr("Filter by property"),
				"direction":  sstr("Filter by direction: income or expense"),
			}),
		},
		{
			"name":        "finance_get",
			"description": "Get one finance entry",
			"inputSchema": getSchema("Finance entry ID"),
		},
		{
			"name":        "timeline_list",
			"description": "List timeline entries, newest first",
			"inputSchema": listSchema(map[string]any{
				"propertyId": sstr("Filter by property"),
				"afterId":    sint("Return entries older than this ID"),
			}),
		},
		{
			"name":        "note_list",
			"description": "List notes, optionally for one property",
			"inputSchema": listSchema(map[string]any{"propertyId": sstr("Filter by property")}),
		},
		{
			"name":        "draft_create_property",
			"description": "Draft a proposal to create a property",
			"inputSchema": proposeSchema(map[string]any{
				"name":    sstr("Property name"),
				"address": sstr("Street address"),
				"city":    sstr("City"),
				"country": sstr("Country"),
				"kind":    sstr("residential, commercial, mixed or land"),
				"status":  sstr("active or archived"),
			}, []string{"name", "kind"}, false),
		},
		{
			"name":        "draft_create_asset",
			"description": "Draft a proposal to create an asset",
			"inputSchema": proposeSchema(map[string]any{
				"property_id":   sstr("Property the asset belongs to"),
				"name":          sstr("Asset name"),
				"category":      sstr("Asset category"),
				"manufacturer":  sstr("Manufacturer"),
				"model":         sstr("Model"),
				"serial_number": sstr("Serial number"),
				"installed_at":  sstr("RFC 3339 installation time"),
			}, []string{"property_id", "name"}, false),
		},
		{
			"name":        "draft_create_maintenance",
			"description": "Draft a proposal to log a maintenance event",
			"inputSchema": proposeSchema(map[string]any{
				"property_id":  sstr("Property the event belongs to"),
				"asset_id":     sstr("Affected asset"),
				"vendor_id":    sstr("Vendor doing the work"),
				"title":        sstr("Event title"),
				"description":  sstr("Details"),
				"status":       sstr("open, scheduled, in_progress, completed or canceled"),
				"priority":     sstr("low, medium, high or urgent"),
				"scheduled_at": sstr("RFC 3339 scheduled time"),
				"cost":         snum("Cost"),
			}, []string{"property_id", "title"}, false),
		},
		{
			"name":        "draft_update_maintenance",
			"description": "Draft a proposal to update a maintenance event",
			"inputSchema": proposeSchema(map[string]any{
				"title":        sstr("Event title"),
				"description":  sstr("Details"),
				"status":       sstr("open, scheduled, in_progress, completed or canceled"),
				"priority":     sstr("low, medium, high or urgent"),
				"asset_id":     sstr("Affected asset"),
				"vendor_id":    sstr("Vendor doing the work"),
				"scheduled_at": sstr("RFC 3339 scheduled time"),
				"completed_at": sstr("RFC 3339 completion time"),
				"cost":         snum("Cost"),
			}, nil, true),
		},
		{
			"name":        "draft_create_note",
			"description": "Draft a proposal to add a note",
			"inputSchema": proposeSchema(map[string]any{
				"property_id": sstr("Property the note is about"),
				"body":        sstr("Note text"),
			}, []string{"body"}, false),
		},
		{
			"name":        "draft_create_document",
			"description": "Draft a proposal to file a document",
			"inputSchema": proposeSchema(map[string]any{
				"property_id":  sstr("Property the document is about"),
				"title":        sstr("Document title"),
				"kind":         sstr("contract, invoice, report, photo or other"),
				"storage_key":  sstr("Opaque storage key for the file content"),
				"content_type": sstr("MIME type"),
			}, []string{"title", "storage_key"}, false),
		},
		{
			"name":        "draft_create_lease",
			"description": "Draft a proposal to record a lease",
			"inputSchema": proposeSchema(map[string]any{
				"property_id": sstr("Leased property"),
				"tenant_name": sstr("Tenant"),
				"starts_on":   sstr("YYYY-MM-DD start date"),
				"ends_on":     sstr("YYYY-MM-DD end date"),
				"rent_amount": snum("Rent per period"),
				"currency":    sstr("3-letter ISO 4217 code"),
				"status":      sstr("active, ended or terminated"),
			}, []string{"property_id", "tenant_name", "starts_on", "rent_amount", "currency"}, false),
		},
		{
			"name":        "draft_create_finance",
			"description": "Draft a proposal to record a finance entry",
			"inputSchema": proposeSchema(map[string]any{
				"property_id": sstr("Related property"),
				"lease_id":    sstr("Related lease"),
				"direction":   sstr("income or expense"),
				"category":    sstr("Category, e.g. rent, repairs"),
				"amount":      snum("Amount, positive"),
				"currency":    sstr("3-letter ISO 4217 code"),
				"occurred_on": sstr("YYYY-MM-DD date"),
				"memo":        sstr("Free-form memo"),
			}, []string{"direction", "category", "amount", "currency", "occurred_on"}, false),
		},
		{
			"name":        "draft_list",
			"description": "List proposals in an organization",
			"inputSchema": listSchema(map[string]any{"status": sstr("Filter by status: PENDING, APPLIED or REJECTED")}),
		},
		{
			"name":        "draft_get",
			"description": "Get one proposal",
			"inputSchema": getSchema("Proposal ID"),
		},
		{
			"name":        "draft_preview",
			"description": "Preview the changes a proposal would make if approved now",
			"inputSchema": getSchema("Proposal ID"),
		},
	}
}
